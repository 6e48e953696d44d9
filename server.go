package main

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"eggbot/modules/site"
)

// GetLocalIP returns the address other hosts can reach this one on.
func GetLocalIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, errors.Wrap(err, "find local address")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// NewRouter wires the control page onto the controller.
func NewRouter(a *app) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", site.HomePage(a.log)).Methods(http.MethodGet)
	router.HandleFunc("/status", site.Status(func() interface{} { return a.status() })).Methods(http.MethodGet)
	router.HandleFunc("/jobs", site.Jobs(a.feeder.Submit, a.log)).Methods(http.MethodPost)
	router.HandleFunc("/stop", site.Stop(a.stop, a.log)).Methods(http.MethodPost)
	if a.stream != nil {
		router.HandleFunc("/video", site.Video(a.stream.Subscribe, a.log)).Methods(http.MethodGet)
	}
	return router
}

// InitServer serves the control page until the process exits.
func InitServer(addr string, router *mux.Router) error {
	return errors.Wrap(http.ListenAndServe(addr, router), "http server")
}
