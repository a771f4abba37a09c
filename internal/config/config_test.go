package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/John-Robertt/kinopl/internal/domain"
)

// 2026-01-10 是周六。
var now = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cwd := t.TempDir()

	eff, err := Load(cwd, CLIArgs{}, env(nil), now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !reflect.DeepEqual(eff.Dates, []string{"2026-01-10"}) {
		t.Fatalf("期望默认日期为今天，实际 %v", eff.Dates)
	}
	if len(eff.Cities) != 20 {
		t.Fatalf("期望默认 20 个城市，实际 %d", len(eff.Cities))
	}
	if !reflect.DeepEqual(eff.Sources, KnownSources) {
		t.Fatalf("期望默认全部 source，实际 %v", eff.Sources)
	}
	if eff.OutDir != filepath.Join(cwd, DefaultOutDir) {
		t.Fatalf("期望 out_dir=%q，实际 %q", filepath.Join(cwd, DefaultOutDir), eff.OutDir)
	}
	if eff.DelayMin != DefaultDelayMin || eff.DelayMax != DefaultDelayMax {
		t.Fatalf("期望默认延迟 1.5s-3.5s，实际 %v-%v", eff.DelayMin, eff.DelayMax)
	}
	if eff.Archive.Dir != filepath.Join(cwd, DefaultOutDir, DefaultArchiveDir) {
		t.Fatalf("期望默认归档目录在 out_dir 下，实际 %q", eff.Archive.Dir)
	}
	if eff.Sheets.MaxAttempts != DefaultSheetsMaxAttempts || eff.Sheets.BaseDelay != DefaultSheetsBaseDelay {
		t.Fatalf("期望默认写表重试参数，实际 %+v", eff.Sheets)
	}
}

func TestLoad_RelativeDatesAndCityAliases(t *testing.T) {
	cwd := t.TempDir()

	eff, err := Load(cwd, CLIArgs{
		Dates:  []string{"jutro", "niedziela", "2026-01-12"},
		Cities: []string{"krakow", "Łódź", "zielona gora"},
	}, env(nil), now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// jutro 与 niedziela 都是 2026-01-11：去重
	if want := []string{"2026-01-11", "2026-01-12"}; !reflect.DeepEqual(eff.Dates, want) {
		t.Fatalf("期望日期 %v，实际 %v", want, eff.Dates)
	}
	if want := []domain.City{"kraków", "łódź", "zielona-góra"}; !reflect.DeepEqual(eff.Cities, want) {
		t.Fatalf("期望城市 %v，实际 %v", want, eff.Cities)
	}
}

func TestLoad_InvalidCityAndDate(t *testing.T) {
	cwd := t.TempDir()

	_, err := Load(cwd, CLIArgs{Cities: []string{"berlin"}}, env(nil), now)
	if Code(err) != ErrCodeInvalidCity {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalidCity, err, Code(err))
	}

	_, err = Load(cwd, CLIArgs{Dates: []string{"2026-13-40"}}, env(nil), now)
	if Code(err) != ErrCodeInvalidDate {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalidDate, err, Code(err))
	}
}

func TestLoad_MergeOrder(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{
		"out_dir": "from-file",
		"cities": ["gdańsk"],
		"sources": ["helios"],
		"keep_raw": true,
		"spreadsheet_id": "file-sheet",
		"delay_min_ms": 10,
		"delay_max_ms": 20,
		"sheets": {"max_attempts": 2, "base_delay_ms": 50}
	}`))

	eff, err := Load(cwd, CLIArgs{}, env(map[string]string{EnvSpreadsheetID: "env-sheet"}), now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.OutDir != filepath.Join(cwd, "from-file") {
		t.Fatalf("期望 out_dir 来自配置文件，实际 %q", eff.OutDir)
	}
	if !reflect.DeepEqual(eff.Cities, []domain.City{"gdańsk"}) || !reflect.DeepEqual(eff.Sources, []string{"helios"}) {
		t.Fatalf("期望城市/source 来自配置文件，实际 %v %v", eff.Cities, eff.Sources)
	}
	if eff.SpreadsheetID != "env-sheet" {
		t.Fatalf("期望环境变量覆盖配置文件，实际 %q", eff.SpreadsheetID)
	}
	if !eff.KeepRaw || eff.DelayMin != 10*time.Millisecond || eff.DelayMax != 20*time.Millisecond {
		t.Fatalf("配置文件字段未生效：%+v", eff)
	}
	if eff.Sheets.MaxAttempts != 2 || eff.Sheets.BaseDelay != 50*time.Millisecond {
		t.Fatalf("期望 sheets 配置生效，实际 %+v", eff.Sheets)
	}

	eff2, err := Load(cwd, CLIArgs{
		OutDir:        "cli-out",
		Cities:        []string{"opole-nope"},
		SpreadsheetID: "cli-sheet",
	}, env(map[string]string{EnvSpreadsheetID: "env-sheet"}), now)
	if Code(err) != ErrCodeInvalidCity {
		t.Fatalf("期望 CLI 城市优先并被校验，实际 err=%v eff=%+v", err, eff2)
	}

	eff3, err := Load(cwd, CLIArgs{
		OutDir:        "cli-out",
		SpreadsheetID: "cli-sheet",
		KeepRaw:       false,
		KeepRawSet:    true, // --keep-raw=false
	}, env(map[string]string{EnvSpreadsheetID: "env-sheet"}), now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff3.OutDir != filepath.Join(cwd, "cli-out") || eff3.SpreadsheetID != "cli-sheet" || eff3.KeepRaw {
		t.Fatalf("期望 CLI 覆盖一切，实际 %+v", eff3)
	}
}

func TestLoad_Credentials(t *testing.T) {
	cwd := t.TempDir()
	credFile := filepath.Join(cwd, "sa.json")
	writeFile(t, credFile, []byte(`{"type":"service_account"}`))

	eff, err := Load(cwd, CLIArgs{}, env(map[string]string{
		EnvSpreadsheetID: "sheet",
		EnvCredentials:   `{"type":"service_account"}`,
	}), now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if string(eff.CredentialsJSON) == "" || eff.CredentialsPath != "" {
		t.Fatalf("期望使用环境变量中的凭据内容，实际 %+v", eff)
	}
	if err := eff.RequireSheets(); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	eff, err = Load(cwd, CLIArgs{CredentialsPath: "sa.json"}, env(map[string]string{EnvSpreadsheetID: "sheet"}), now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.CredentialsPath != credFile {
		t.Fatalf("期望凭据路径 %q，实际 %q", credFile, eff.CredentialsPath)
	}
	if err := eff.RequireSheets(); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	eff, err = Load(cwd, CLIArgs{CredentialsPath: "missing.json"}, env(map[string]string{EnvSpreadsheetID: "sheet"}), now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := eff.RequireSheets(); Code(err) != ErrCodeMissingCredentials {
		t.Fatalf("期望 %q，实际 err=%v", ErrCodeMissingCredentials, err)
	}
}

func TestRequireSheets_MissingSpreadsheet(t *testing.T) {
	eff := EffectiveConfig{CredentialsJSON: []byte("{}")}
	if err := eff.RequireSheets(); Code(err) != ErrCodeMissingSpreadsheet {
		t.Fatalf("期望 %q，实际 err=%v", ErrCodeMissingSpreadsheet, err)
	}
}

func TestLoad_InvalidFileConfig(t *testing.T) {
	cases := map[string]string{
		"broken json":    `{`,
		"unknown source": `{"sources":["multikino"]}`,
		"bad proxy":      `{"proxy":{"url":"http://[::1"}}`,
		"delay order":    `{"delay_min_ms":500,"delay_max_ms":100}`,
		"bad base url":   `{"base_urls":{"helios":"ftp://x"}}`,
		"bad event date": `{"helios":{"events":[{"movie":"X","dates":["jutro"],"times":["10:00"]}]}}`,
	}
	for name, body := range cases {
		cwd := t.TempDir()
		writeFile(t, filepath.Join(cwd, FileName), []byte(body))
		_, err := Load(cwd, CLIArgs{}, env(nil), now)
		if Code(err) != ErrCodeInvalid {
			t.Fatalf("%s：期望 %q，实际 err=%v (code=%q)", name, ErrCodeInvalid, err, Code(err))
		}
	}
}

func TestLoad_ExplicitConfigMustExist(t *testing.T) {
	cwd := t.TempDir()
	_, err := Load(cwd, CLIArgs{ConfigPath: "nope.json"}, env(nil), now)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ".env"), []byte("KINOPL_TEST_A=from-file\nKINOPL_TEST_B=from-file\n"))
	t.Setenv("KINOPL_TEST_A", "from-env")
	t.Setenv("KINOPL_TEST_B", "")
	os.Unsetenv("KINOPL_TEST_B")

	if err := LoadDotEnv(cwd); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got := os.Getenv("KINOPL_TEST_A"); got != "from-env" {
		t.Fatalf("期望已有环境变量不被覆盖，实际 %q", got)
	}
	if got := os.Getenv("KINOPL_TEST_B"); got != "from-file" {
		t.Fatalf("期望从 .env 读取，实际 %q", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := LoadDotEnv(t.TempDir()); err != nil {
		t.Fatalf("期望 .env 缺失不报错，实际 %v", err)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
