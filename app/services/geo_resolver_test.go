package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jaecopzm/trakpilot/utils"
	"github.com/stretchr/testify/assert"
)

func TestIPAPIGeoResolver_Locate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/8.8.8.8":
			_, _ = w.Write([]byte(`{"status":"success","country":"United States","regionName":"California","city":"Mountain View"}`))
		case "/json/9.9.9.9":
			_, _ = w.Write([]byte(`{"status":"fail"}`))
		case "/json/1.1.1.1":
			_, _ = w.Write([]byte(`{"status":"success","country":"Australia"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	geo := NewIPAPIGeoResolver(srv.URL+"/json/", time.Second)
	tests := []struct {
		ip   string
		want string
	}{
		{"8.8.8.8", "Mountain View, California, United States"},
		{"1.1.1.1", "Australia"},
		{"9.9.9.9", utils.UnknownLocation},
		{"4.4.4.4", utils.UnknownLocation},
		{"127.0.0.1", utils.UnknownLocation},
		{"10.1.2.3", utils.UnknownLocation},
		{"not-an-ip", utils.UnknownLocation},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, geo.Locate(context.Background(), tt.ip))
		})
	}
}

func TestIPAPIGeoResolver_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"status":"success","country":"Late"}`))
	}))
	defer srv.Close()

	geo := NewIPAPIGeoResolver(srv.URL, 50*time.Millisecond)
	assert.Equal(t, utils.UnknownLocation, geo.Locate(context.Background(), "8.8.8.8"))
}
