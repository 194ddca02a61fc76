package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudopper/cloudopper/proxmox"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter returns the read only HTTP interface: the listings that are also
// served over SSH, plus the Prometheus metrics. Anything that changes a VM
// goes through the authenticated SSH interface only.
func newRouter(cloud *Cloud) *mux.Router {
	router := mux.NewRouter()
	router.Path("/metrics").Handler(promhttp.Handler())

	router.Path("/list/providers").Methods("GET").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cloud.providerList())
	})
	router.Path("/list/profiles").Methods("GET").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cloud.profileList())
	})

	nodes := func(w http.ResponseWriter, r *http.Request) {
		ln, err := cloud.nodeList(r.Context(), mux.Vars(r)["provider"])
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, ln)
	}
	router.Path("/list/nodes").Methods("GET").HandlerFunc(nodes)
	router.Path("/list/nodes/{provider}").Methods("GET").HandlerFunc(nodes)

	vms := func(w http.ResponseWriter, r *http.Request) {
		lv, err := cloud.vmList(r.Context(), mux.Vars(r)["provider"])
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, lv)
	}
	router.Path("/list/vms").Methods("GET").HandlerFunc(vms)
	router.Path("/list/vms/{provider}").Methods("GET").HandlerFunc(vms)

	images := func(w http.ResponseWriter, r *http.Request) {
		li, err := cloud.imageList(r.Context(), mux.Vars(r)["provider"])
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, li)
	}
	router.Path("/list/images").Methods("GET").HandlerFunc(images)
	router.Path("/list/images/{provider}").Methods("GET").HandlerFunc(images)

	router.Path("/show/vm/{name}").Methods("GET").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		f, _, err := cloud.findVM(r.Context(), name)
		if err != nil {
			httpError(w, err)
			return
		}
		detail, err := f.Detail(r.Context(), name)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, detail)
	})
	return router
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// httpError translates err into a status code the same way the SSH interface
// translates it into an exit code.
func httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, proxmox.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, proxmox.ErrTimeout):
		code = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), code)
}
