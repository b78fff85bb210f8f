/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

var endpoints = []string{
	"POST /rooms",
	"GET  /rooms/:code",
	"POST /rooms/:code",
	"POST /rooms/:code/leave",
	"GET  /rooms/:code/quiz",
	"GET  /rooms/:code/qr",
	"GET  /rooms/:code/ws?player_id=",
	"POST /quiz/sessions",
	"POST /quiz/sessions/:sessionId/next",
	"POST /quiz/sessions/:sessionId/end",
	"GET  /quiz/sessions/:sessionId/scores",
	"POST /quiz/rounds",
	"POST /quiz/rounds/:roundId/lock",
	"POST /quiz/rounds/:roundId/reveal",
	"GET  /quiz/rounds/:roundId/answers",
	"POST /quiz/answers",
}

func (s *server) serveHomePage() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var body strings.Builder
		body.WriteString("shababshub v" + releaseVersion + "\n\n")
		for _, e := range endpoints {
			body.WriteString(e + "\n")
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(s.cfg, w)

		written, err := w.Write([]byte(body.String()))
		if err != nil {
			s.log.Debug().Err(err).Msg("write home page")
			return
		}

		s.served(r, "home page", written, startTime)
	}
}

func (s *server) serveHealthCheck() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(s.cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			s.log.Debug().Err(err).Msg("write health check")
		}
	}
}

func (s *server) serveRobots() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data := `User-agent: *
Disallow: /rooms/
Disallow: /quiz/

User-agent: CCBot
Disallow: /

User-agent: GPTBot
Disallow: /`

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(s.cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			s.log.Debug().Err(err).Msg("write robots")
		}
	}
}
