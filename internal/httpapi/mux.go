package httpapi

import "net/http"

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, deps.DB)
	registerStatus(mux, deps)
	registerReadings(mux, deps.Readings)
	return mux
}
