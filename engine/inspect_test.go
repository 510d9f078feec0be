package engine

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/use-agent/otakuscrape/models"
)

func TestInspect(t *testing.T) {
	long := strings.Repeat("word ", 60)
	page := func(inner string) string {
		return "<html><body>" + inner + "</body></html>"
	}

	tests := []struct {
		name string
		resp Response
		pol  Policy
		want models.ErrorKind
	}{
		{"ok", Response{Body: page(long), StatusCode: 200, ContentType: "text/html"}, Policy{MinBodyLength: 100}, ""},
		{"unknown status ok", Response{Body: page(long)}, Policy{}, ""},
		{"forbidden", Response{Body: page(long), StatusCode: 403}, Policy{}, models.KindBlocked},
		{"too many requests", Response{Body: page(long), StatusCode: 429}, Policy{}, models.KindBlocked},
		{"not found", Response{Body: page(long), StatusCode: 404}, Policy{}, models.KindNotFound},
		{"bad gateway", Response{Body: page(long), StatusCode: 502}, Policy{}, models.KindUpstream},
		{"challenge on 503", Response{Body: `<html><title>Just a moment...</title></html>`, StatusCode: 503}, Policy{}, models.KindBlocked},
		{"challenge on 200", Response{Body: page(`<div id="cf-browser-verification"></div>` + long), StatusCode: 200}, Policy{}, models.KindBlocked},
		{"ddos guard", Response{Body: page("DDoS-Guard " + long), StatusCode: 200}, Policy{}, models.KindBlocked},
		{"json body", Response{Body: `{"error":"nope"}`, StatusCode: 200, ContentType: "application/json"}, Policy{}, models.KindBlocked},
		{"short body", Response{Body: page("hi"), StatusCode: 200}, Policy{MinBodyLength: 100}, models.KindBlocked},
		{"script text ignored", Response{Body: page("<script>" + long + "</script>"), StatusCode: 200}, Policy{MinBodyLength: 100}, models.KindBlocked},
		{"marker present", Response{Body: page(`<div class="bsx">` + long + `</div>`), StatusCode: 200}, Policy{Marker: ".bsx"}, ""},
		{"marker missing", Response{Body: page(long), StatusCode: 200}, Policy{Marker: ".bsx"}, models.KindBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp
			got, reason := inspect(&resp, tt.pol)
			if got != tt.want {
				t.Errorf("inspect = %q (%s), want %q", got, reason, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), models.KindNetwork},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, models.KindNetwork},
		{"nxdomain", &net.DNSError{Name: "x.invalid", IsNotFound: true}, models.KindOther},
		{"pool closed", ErrPoolClosed, models.KindOther},
		{"chromium timeout", errors.New("navigation failed: net::ERR_TIMED_OUT"), models.KindTimeout},
		{"chromium blocked", errors.New("net::ERR_BLOCKED_BY_CLIENT"), models.KindBlocked},
		{"chromium dns", errors.New("net::ERR_NAME_NOT_RESOLVED"), models.KindOther},
		{"kinded", models.NewScrapeError(models.KindUpstream, "x", nil), models.KindUpstream},
		{"unknown", errors.New("something odd"), models.KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
