package pipeline

import "testing"

func TestShapeFingerprint(t *testing.T) {
	page := func(title, cls string) string {
		return `<html><head><script>var t = Date.now()</script></head><body>
			<div class="` + cls + `"><div class="bsx"><a href="/a"><img src="a.jpg"></a><div class="tt">` + title + `</div></div>
			<div class="bsx"><a href="/b"><img src="b.jpg"></a><div class="tt">B</div></div></div></body></html>`
	}

	a := shapeFingerprint(page("Solo Leveling", "listupd"))
	b := shapeFingerprint(page("Omniscient Reader", "listupd"))
	if a != b {
		t.Errorf("text-only change moved the fingerprint by %d bits", hamming(a, b))
	}

	c := shapeFingerprint(page("Solo Leveling", "list-update-v2"))
	if a == c {
		t.Errorf("container class rename left the fingerprint unchanged")
	}

	if shapeFingerprint("plain text") != 0 {
		t.Errorf("tagless input should fingerprint to 0")
	}
}

func TestDriftTracker(t *testing.T) {
	var d driftTracker
	healthy := `<body><div class="listupd"><div class="bsx"><a></a></div></div></body>`
	changed := `<body><section class="grid"><article class="card"><a></a></article></section></body>`

	if _, ok := d.distance("s", changed); ok {
		t.Fatal("distance reported without a baseline")
	}
	d.observe("s", healthy)

	same, ok := d.distance("s", healthy)
	if !ok || same != 0 {
		t.Errorf("distance to baseline itself = %d, %v", same, ok)
	}
	far, _ := d.distance("s", changed)
	if far == 0 {
		t.Errorf("restructured page has zero drift")
	}
}
