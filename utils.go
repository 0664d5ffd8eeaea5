package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/contentsquare/hitcounter/log"
)

func respondWith(rw http.ResponseWriter, err error, status int) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(status)
	fmt.Fprintf(rw, "%s\n", err)
}

func respondWithJSON(rw http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("BUG: cannot marshal %T: %s", v, err))
	}
	rw.Header().Set("Content-Type", "application/json")
	if _, err := rw.Write(b); err != nil {
		log.Debugf("cannot send response: %s", err)
	}
}
