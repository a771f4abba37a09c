package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/kinopl/internal/domain"
)

func sampleRecords() []domain.FlatRecord {
	return []domain.FlatRecord{
		{Date: "2026-01-11", City: "kraków", MovieTitle: "Avatar: Ogień i popiół", CinemaName: "Cinema City Bonarka", Time: "10:30", Format: domain.Format3D, Language: domain.LangDubbing},
		{Date: "2026-01-11", City: "kraków", MovieTitle: "Avatar: Ogień i popiół", CinemaName: "Cinema City Bonarka", Time: "14:00", Format: domain.Format3D, Language: domain.LangNapisy},
		{Date: "2026-01-11", City: "kraków", MovieTitle: "Avatar: Ogień i popiół", CinemaName: "Kino Pod Baranami", Time: "18:15"},
		{Date: "2026-01-11", City: "kraków", MovieTitle: "Zwierzogród 2", CinemaName: "Kino Pod Baranami", Time: "12:00", Language: domain.LangDubbing},
		{Date: "2026-01-11", City: "łódź", MovieTitle: "Żółć", CinemaName: "Helios Sukcesja", Time: "20:45", Format: domain.FormatIMAX},
	}
}

func TestRoundTrip_CSVRowsEqualFlattenedJSON(t *testing.T) {
	scraped := time.Date(2026, 1, 11, 8, 0, 0, 0, time.UTC)
	schedules := Group(sampleRecords(), scraped, Slot{City: "gdańsk", Date: "2026-01-11"})

	dir := t.TempDir()
	paths, err := WriteDay(dir, "2026-01-11", schedules)
	if err != nil {
		t.Fatalf("WriteDay: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "cinema_2026-01-11.csv" || filepath.Base(paths[1]) != "cinema_2026-01-11.json" {
		t.Fatalf("输出路径不正确：%v", paths)
	}

	csvRecs, skipped, err := ReadCSVFile(paths[0])
	if err != nil || skipped != 0 {
		t.Fatalf("ReadCSVFile: skipped=%d err=%v", skipped, err)
	}

	f, err := os.Open(paths[1])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := DecodeJSON(f)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got := domain.Flatten(decoded); !reflect.DeepEqual(got, csvRecs) {
		t.Fatalf("CSV 行集合应等于 JSON 展开结果：\ncsv=%+v\njson=%+v", csvRecs, got)
	}
	if !reflect.DeepEqual(csvRecs, sampleRecords()) {
		t.Fatalf("记录应原样往返：%+v", csvRecs)
	}
	if !decoded[0].ScrapedAt.Equal(scraped) {
		t.Fatalf("scraped_at 不正确：%v", decoded[0].ScrapedAt)
	}
}

func TestGroup_OrderAndEmptySeed(t *testing.T) {
	schedules := Group(sampleRecords(), time.Time{}, Slot{City: "gdańsk", Date: "2026-01-11"})
	var cities []domain.City
	for _, s := range schedules {
		cities = append(cities, s.City)
	}
	want := []domain.City{"kraków", "gdańsk", "łódź"}
	if !reflect.DeepEqual(cities, want) {
		t.Fatalf("城市顺序不正确：期望 %v，实际 %v", want, cities)
	}
	if len(schedules[1].Movies) != 0 || schedules[1].Movies == nil {
		t.Fatalf("无排片的城市应输出空 movies 数组：%+v", schedules[1])
	}
	krk := schedules[0]
	if len(krk.Movies) != 2 || len(krk.Movies[0].Cinemas) != 2 || len(krk.Movies[0].Cinemas[0].Screenings) != 2 {
		t.Fatalf("聚合结构不正确：%+v", krk)
	}
	if m, c, s := krk.Counts(); m != 2 || c != 2 || s != 4 {
		t.Fatalf("Counts 不正确：%d %d %d", m, c, s)
	}
}

func TestJSON_NullsAndPolishText(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeJSON(&buf, Group(sampleRecords()[2:3], time.Time{})); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"city": "kraków"`, `"title": "Avatar: Ogień i popiół"`, `"format": null`, `"language": null`} {
		if !strings.Contains(out, want) {
			t.Fatalf("JSON 缺少 %s：\n%s", want, out)
		}
	}
}

func TestWriteCSV_HeaderAndUTF8(t *testing.T) {
	b, err := MarshalCSV(sampleRecords()[4:])
	if err != nil {
		t.Fatal(err)
	}
	want := "\ufeffdate,city,movie_title,cinema_name,time,format,language\n2026-01-11,łódź,Żółć,Helios Sukcesja,20:45,IMAX,\n"
	if string(b) != want {
		t.Fatalf("CSV 不正确：\n期望 %q\n实际 %q", want, string(b))
	}
}

func TestSourceCSV_KeepsEventTypeAndCinemaURL(t *testing.T) {
	in := sampleRecords()[4:]
	in[0].EventType = "helios-dla-dzieci"
	in[0].CinemaURL = "https://www.helios.pl/lodz/kino-helios-sukcesja"

	b, err := MarshalSourceCSV(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "\ufeffdate,city,movie_title,cinema_name,time,format,language,event_type,cinema_url\n") {
		t.Fatalf("来源 CSV 表头不正确：%q", string(b))
	}
	got, skipped, err := ReadCSV(bytes.NewReader(b))
	if err != nil || skipped != 0 {
		t.Fatalf("ReadCSV: skipped=%d err=%v", skipped, err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("附带字段应原样往返：\n期望 %+v\n实际 %+v", in, got)
	}

	day, err := MarshalCSV(in)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(day), "event_type") || strings.Contains(string(day), "helios-dla-dzieci") {
		t.Fatalf("日导出 CSV 只应有七列：%q", string(day))
	}
}

func TestGroup_FirstNonEmptyCinemaURL(t *testing.T) {
	recs := sampleRecords()[:2]
	recs[1].CinemaURL = "https://kino.coigdzie.pl/kino/cinema-city-bonarka"

	var buf bytes.Buffer
	if err := EncodeJSON(&buf, Group(recs, time.Time{})); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"cinema_url": "https://kino.coigdzie.pl/kino/cinema-city-bonarka"`) {
		t.Fatalf("JSON 应包含 cinema_url：\n%s", buf.String())
	}
	if n := strings.Count(buf.String(), "cinema_url"); n != 1 {
		t.Fatalf("同一影院只应输出一次 cinema_url，实际 %d", n)
	}
}

func TestReadCSV_TolerantColumns(t *testing.T) {
	in := "\ufeffday,scraped_at,city,date,cinema_name,movie_title,time,event_type\n" +
		"niedziela,2026-01-11T08:00:00,krakow,2026-01-11,Kino Kijów,Wicked,18:00,regular\n" +
		"niedziela,2026-01-11T08:00:00,krakow,2026-01-11,,Wicked,20:00,regular\n"
	recs, skipped, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if skipped != 1 || len(recs) != 1 {
		t.Fatalf("期望 1 条记录 + 1 条跳过，实际 %d/%d", len(recs), skipped)
	}
	r := recs[0]
	if r.City != "kraków" || r.CinemaName != "Kino Kijów" || r.Format != "" || r.Language != "" || r.EventType != "regular" {
		t.Fatalf("记录不正确：%+v", r)
	}
}

func TestReadCSV_MissingRequiredColumn(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("date,city,movie_title,time\n2026-01-11,poznań,X,10:00\n"))
	var me *MissingColumnError
	if !errors.As(err, &me) || me.Column != "cinema_name" {
		t.Fatalf("期望 MissingColumnError(cinema_name)，实际 %v", err)
	}
}
