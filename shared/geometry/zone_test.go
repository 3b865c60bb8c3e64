package geometry

import (
	"testing"

	"github.com/Ftotnem/GO-TIMING/shared/models"
)

func TestContains(t *testing.T) {
	t.Parallel()

	zone := models.NewZone(models.Point{World: "lobby", X: 10, Y: 64, Z: 10}, 2)
	tests := []struct {
		name string
		p    models.Point
		want bool
	}{
		{"center", models.Point{World: "lobby", X: 10, Y: 64, Z: 10}, true},
		{"on radius", models.Point{World: "lobby", X: 12, Y: 64, Z: 10}, true},
		{"outside radius", models.Point{World: "lobby", X: 12.01, Y: 64, Z: 10}, false},
		{"diagonal inside", models.Point{World: "lobby", X: 11.4, Y: 64, Z: 11.4}, true},
		{"diagonal outside", models.Point{World: "lobby", X: 11.5, Y: 64, Z: 11.5}, false},
		{"vertical tolerance above", models.Point{World: "lobby", X: 10, Y: 65.5, Z: 10}, true},
		{"vertical tolerance below", models.Point{World: "lobby", X: 10, Y: 62.5, Z: 10}, true},
		{"too high", models.Point{World: "lobby", X: 10, Y: 65.6, Z: 10}, false},
		{"other world", models.Point{World: "nether", X: 10, Y: 64, Z: 10}, false},
		{"no world", models.Point{X: 10, Y: 64, Z: 10}, false},
	}
	for _, tt := range tests {
		if got := Contains(tt.p, zone); got != tt.want {
			t.Fatalf("%s: Contains(%+v) = %v, want %v", tt.name, tt.p, got, tt.want)
		}
	}
}

func TestContainsMatchesUnnamedWorld(t *testing.T) {
	t.Parallel()

	zone := models.NewZone(models.Point{X: 10, Y: 64, Z: 10}, 2)
	if !Contains(models.Point{X: 10, Y: 64, Z: 10}, zone) {
		t.Fatal("expected point in unnamed world to match zone in unnamed world")
	}
	if Contains(models.Point{World: "lobby", X: 10, Y: 64, Z: 10}, zone) {
		t.Fatal("expected named world not to match unnamed zone")
	}
}

func TestContainsZeroRadiusUsesDefault(t *testing.T) {
	t.Parallel()

	zone := models.NewZone(models.Point{World: "w"}, 0)
	if !Contains(models.Point{World: "w", X: 0.5}, zone) {
		t.Fatal("point at default radius should be inside")
	}
	if Contains(models.Point{World: "w", X: 0.51}, zone) {
		t.Fatal("point past default radius should be outside")
	}
}

func TestIsEnteringOnlyOnEdge(t *testing.T) {
	t.Parallel()

	zone := models.NewZone(models.Point{World: "w"}, 1)
	inside := models.Point{World: "w"}
	outside := models.Point{World: "w", X: 5}
	tests := []struct {
		from, to models.Point
		want     bool
	}{
		{outside, inside, true},
		{inside, inside, false},
		{inside, outside, false},
		{outside, outside, false},
	}
	for _, tt := range tests {
		want := !Contains(tt.from, zone) && Contains(tt.to, zone)
		got := IsEntering(tt.from, tt.to, zone)
		if got != tt.want || got != want {
			t.Fatalf("IsEntering(%+v, %+v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
