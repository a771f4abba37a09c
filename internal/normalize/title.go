package normalize

import (
	"regexp"
	"strings"

	"github.com/John-Robertt/kinopl/internal/domain"
)

// 末尾格式标记：可带括号/方括号，允许前置 "-" 或 "|" 分隔。
var trailingFormatRE = regexp.MustCompile(`(?i)[\s\-–|,]*[\(\[]?\b(2D|3D|IMAX|4DX)\b[\)\]]?\s*$`)

// 末尾语言标记：括号形式支持缩写（sub/dub）；裸词（"Wicked napisy"）只接受完整词，避免误伤片名。
var (
	trailingLangParenRE = regexp.MustCompile(`(?i)[\s\-–|,]*[\(\[]\s*(dubbing|napisy|lektor|sub|dub)\s*[\)\]]\s*$`)
	trailingLangWordRE  = regexp.MustCompile(`(?i)[\s\-–|,]+(dubbing|napisy|lektor)\s*$`)
)

const trailingSeparators = " -–|,:"

// TitleParts 是拆分后的标题。
type TitleParts struct {
	Title    string
	Format   domain.Format
	Language domain.Language
}

// Title 剥离片名末尾的格式/语言标记，并把它们作为独立字段返回。
//
// 反复剥离直到末尾不再有标记，因此 Title(Title(x).Title) 与 Title(x).Title 相同。
// 同类标记出现多次时，取最靠近片名的那个（即最后剥离的那个）。
func Title(raw string) TitleParts {
	t := strings.TrimLeft(NormSpace(raw), trailingSeparators)
	var p TitleParts
	for {
		t = strings.TrimRight(t, trailingSeparators)
		if m := trailingLangParenRE.FindStringSubmatchIndex(t); m != nil {
			p.Language = langToken(t[m[2]:m[3]])
			t = t[:m[0]]
			continue
		}
		if m := trailingLangWordRE.FindStringSubmatchIndex(t); m != nil {
			p.Language = langToken(t[m[2]:m[3]])
			t = t[:m[0]]
			continue
		}
		// 标记前面只剩分隔符（整个标题就是格式标记）时不剥离，否则片名为空。
		if m := trailingFormatRE.FindStringSubmatchIndex(t); m != nil && strings.TrimLeft(t[:m[0]], trailingSeparators) != "" {
			p.Format = formatToken(t[m[2]:m[3]])
			t = t[:m[0]]
			continue
		}
		break
	}
	p.Title = t
	return p
}

// CanonicalTitle 只返回规范化后的片名。
func CanonicalTitle(raw string) string { return Title(raw).Title }

func formatToken(s string) domain.Format {
	switch strings.ToUpper(s) {
	case "2D":
		return domain.Format2D
	case "3D":
		return domain.Format3D
	case "IMAX":
		return domain.FormatIMAX
	case "4DX":
		return domain.Format4DX
	}
	return ""
}

func langToken(s string) domain.Language {
	switch strings.ToLower(s) {
	case "dubbing", "dub":
		return domain.LangDubbing
	case "napisy", "sub":
		return domain.LangNapisy
	case "lektor":
		return domain.LangLektor
	}
	return ""
}

// DetectFormat 从任意属性文本中粗略识别格式（优先级 IMAX > 4DX > 3D > 2D）。
func DetectFormat(text string) domain.Format {
	low := strings.ToLower(text)
	switch {
	case strings.Contains(low, "imax"):
		return domain.FormatIMAX
	case strings.Contains(low, "4dx"):
		return domain.Format4DX
	case strings.Contains(low, "3d"):
		return domain.Format3D
	case strings.Contains(low, "2d"):
		return domain.Format2D
	}
	return ""
}

// DetectLanguage 从任意属性文本中粗略识别语言版本。
func DetectLanguage(text string) domain.Language {
	low := strings.ToLower(text)
	switch {
	case strings.Contains(low, "dubbing"), strings.Contains(low, "dubbed"):
		return domain.LangDubbing
	case strings.Contains(low, "napisy"), strings.Contains(low, "subbed"), strings.Contains(low, "subtitle"):
		return domain.LangNapisy
	case strings.Contains(low, "lektor"):
		return domain.LangLektor
	}
	return ""
}
