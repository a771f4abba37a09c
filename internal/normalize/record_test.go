package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/John-Robertt/kinopl/internal/domain"
)

func TestTime(t *testing.T) {
	cases := map[string]string{
		"10:30":               "10:30",
		"9:05":                "09:05",
		"2026-01-10 14:30:00": "14:30",
		"godz. 21:45 bilet":   "21:45",
		"2026-01-12T10:30:00": "10:30",
	}
	for in, want := range cases {
		got, ok := Time(in)
		if !ok || got != want {
			t.Fatalf("Time(%q) 期望 %q，实际 %q ok=%v", in, want, got, ok)
		}
	}
	if _, ok := Time("29:99"); ok {
		t.Fatalf("非法时间不应被接受")
	}
	if got := Times("10:30, 12:30 i 10:30"); len(got) != 2 || got[1] != "12:30" {
		t.Fatalf("Times 去重/顺序不正确：%v", got)
	}
}

func TestRecord_TitleTokensWinOverHints(t *testing.T) {
	raw := domain.RawScreening{
		Source:       "coigdzie",
		EventType:    "regular",
		City:         "warszawa",
		Date:         "2026-01-11",
		Title:        "Avatar: Ogień i popiół 3D (dubbing)",
		CinemaName:   "  Kino   Muranów ",
		CinemaURL:    "https://kino.coigdzie.pl/kino/muranow",
		Time:         "2026-01-11 18:15:00",
		FormatHint:   "IMAX",
		LanguageHint: "napisy",
	}
	rec, err := Record(raw)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := domain.FlatRecord{
		Date:       "2026-01-11",
		City:       "warszawa",
		MovieTitle: "Avatar: Ogień i popiół",
		CinemaName: "Kino Muranów",
		Time:       "18:15",
		Format:     domain.Format3D,
		Language:   domain.LangDubbing,
		EventType:  "regular",
		CinemaURL:  "https://kino.coigdzie.pl/kino/muranow",
	}
	if rec != want {
		t.Fatalf("期望 %+v，实际 %+v", want, rec)
	}
}

func TestRecord_FallsBackToHints(t *testing.T) {
	rec, err := Record(domain.RawScreening{
		Source: "cinemacity", City: "kraków", Date: "2026-01-12",
		Title: "Wicked", CinemaName: "Cinema City Bonarka", Time: "10:30",
		FormatHint: `["imax","subbed-lang-pl"]`, LanguageHint: `["imax","subbed-lang-pl"]`,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rec.Format != domain.FormatIMAX || rec.Language != domain.LangNapisy {
		t.Fatalf("属性提示回退不正确：%+v", rec)
	}
}

func TestRecord_RelativeDate(t *testing.T) {
	old := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }
	defer func() { nowFunc = old }()

	rec, err := Record(domain.RawScreening{Source: "coigdzie", City: "gdańsk", Date: "niedziela", Title: "X", CinemaName: "Y", Time: "12:00"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rec.Date != "2026-01-11" {
		t.Fatalf("期望 2026-01-11，实际 %q", rec.Date)
	}
}

func TestRecord_ParseErrors(t *testing.T) {
	base := domain.RawScreening{Source: "helios", City: "łódź", Date: "2026-01-11", Title: "Film", CinemaName: "Helios", Time: "10:00"}

	cases := map[string]domain.RawScreening{}
	noTitle := base
	noTitle.Title = " (dubbing) "
	cases["title"] = noTitle
	noCinema := base
	noCinema.CinemaName = ""
	cases["cinema_name"] = noCinema
	noTime := base
	noTime.Time = "wkrótce"
	cases["time"] = noTime
	noDate := base
	noDate.Date = "kiedyś"
	cases["date"] = noDate

	for field, raw := range cases {
		_, err := Record(raw)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("字段 %s：期望 ParseError，实际 %v", field, err)
		}
		if pe.Field != field {
			t.Fatalf("期望 Field=%s，实际 %s", field, pe.Field)
		}
	}
}
