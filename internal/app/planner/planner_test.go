package planner

import (
	"context"
	"net/http"
	"reflect"
	"testing"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/infra/pace"
	"github.com/John-Robertt/kinopl/internal/source"
)

type fakeSource struct {
	name  string
	scope source.Scope
}

func (f fakeSource) Name() string        { return f.name }
func (f fakeSource) Scope() source.Scope { return f.scope }
func (f fakeSource) PayloadExt() string  { return "html" }
func (f fakeSource) Fetch(context.Context, domain.FetchUnit, *http.Client, *pace.Pacer) ([]byte, error) {
	return nil, nil
}
func (f fakeSource) Parse(domain.FetchUnit, []byte) ([]domain.RawScreening, error) { return nil, nil }

func TestPlan_OrderAndScope(t *testing.T) {
	srcs := []source.Source{
		fakeSource{name: "coigdzie", scope: source.PerCity},
		fakeSource{name: "helios", scope: source.PerDate},
	}
	units := Plan([]string{"2026-01-10", "2026-01-11"}, []domain.City{"warszawa", "kraków"}, srcs)

	var got []string
	for _, u := range units {
		got = append(got, u.Label())
	}
	want := []string{
		"coigdzie/warszawa/2026-01-10",
		"coigdzie/kraków/2026-01-10",
		"helios/2026-01-10",
		"coigdzie/warszawa/2026-01-11",
		"coigdzie/kraków/2026-01-11",
		"helios/2026-01-11",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("期望 %v，实际 %v", want, got)
	}
	if c := Counts(units); c["coigdzie"] != 4 || c["helios"] != 2 {
		t.Fatalf("统计不符合预期：%v", c)
	}
}

func TestSelect_Missing(t *testing.T) {
	reg, err := source.NewRegistry(fakeSource{name: "coigdzie"}, fakeSource{name: "helios", scope: source.PerDate})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	got, missing := Select(reg, []string{"helios", "cinemacity"})
	if len(got) != 1 || got[0].Name() != "helios" {
		t.Fatalf("期望只选中 helios，实际 %v", got)
	}
	if !reflect.DeepEqual(missing, []string{"cinemacity"}) {
		t.Fatalf("期望缺失 cinemacity，实际 %v", missing)
	}
}
