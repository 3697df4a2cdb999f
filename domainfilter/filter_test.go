package domainfilter

import (
	"strings"
	"testing"
)

func TestParseEasyListAnchoredOnly(t *testing.T) {
	input := `! comment
||ads.example.com^
||tracker.example.net^$third-party
##.ad-banner
@@||good.example.com^
||cdn.example.com^
`
	hosts := parseEasyList(strings.NewReader(input))
	if _, ok := hosts["ads.example.com"]; !ok {
		t.Error("expected ads.example.com blocked")
	}
	if _, ok := hosts["cdn.example.com"]; !ok {
		t.Error("expected cdn.example.com blocked")
	}
	if _, ok := hosts["tracker.example.net"]; ok {
		t.Error("rule with $ option must be skipped")
	}
	if _, ok := hosts["good.example.com"]; ok {
		t.Error("exception rule must be skipped")
	}
}

func TestShouldBlockParentDomain(t *testing.T) {
	f := New()
	f.hosts = map[string]struct{}{"example.com": {}}
	if !f.ShouldBlock("https://ads.sub.example.com/x") {
		t.Error("expected block via parent domain match")
	}
	if f.ShouldBlock("https://other.com/x") {
		t.Error("expected no block")
	}
}
