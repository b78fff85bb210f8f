package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// joinURL is where a phone scanning the room's QR code should land.
func joinURL(r *http.Request, prefix, code string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	switch proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); proto {
	case "http", "https":
		scheme = proto
	}

	return scheme + "://" + r.Host + prefix + "/rooms/" + code
}

func (s *server) serveQR(prefix string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(s.cfg, w)

		details, err := s.rooms.Details(r.Context(), ps.ByName("code"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		png, err := qrcode.Encode(joinURL(r, prefix, details.Room.Code), qrcode.Medium, qrSize)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.Header().Set("Cache-Control", "no-store")

		if _, err := w.Write(png); err != nil {
			s.log.Debug().Err(err).Msg("write qr code")
		}
	}
}
