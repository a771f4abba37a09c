package normalize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Locator 从 HTML 片段中提取一个字符串；找不到返回 ""。
//
// 多个 Locator 组成有序回退链：主定位器在前，回退定位器在后，第一个非空结果胜出。
// 这样站点小幅改版时只会退化到回退定位器，而不是整体解析失败。
type Locator func(sel *goquery.Selection) string

// Text 取第一个匹配 selector 的元素文本（空白已折叠）。selector 为空表示片段自身。
func Text(selector string) Locator {
	return func(sel *goquery.Selection) string {
		if sel == nil {
			return ""
		}
		s := sel
		if selector != "" {
			s = sel.Find(selector).First()
		}
		return NormSpace(s.Text())
	}
}

// Attr 取第一个匹配 selector 的元素的属性值。
func Attr(selector, attr string) Locator {
	return func(sel *goquery.Selection) string {
		if sel == nil {
			return ""
		}
		s := sel
		if selector != "" {
			s = sel.Find(selector).First()
		}
		v, _ := s.Attr(attr)
		return NormSpace(v)
	}
}

// Regexp 对片段的 HTML 源码做正则匹配，取第 1 个捕获组。
func Regexp(re *regexp.Regexp) Locator {
	return func(sel *goquery.Selection) string {
		if sel == nil {
			return ""
		}
		h, err := goquery.OuterHtml(sel)
		if err != nil {
			return ""
		}
		m := re.FindStringSubmatch(h)
		if len(m) < 2 {
			return ""
		}
		return NormSpace(m[1])
	}
}

// First 依次尝试 locs，返回第一个非空结果及其下标；全部失败返回 ("", -1)。
func First(sel *goquery.Selection, locs ...Locator) (string, int) {
	for i, loc := range locs {
		if loc == nil {
			continue
		}
		if v := loc(sel); v != "" {
			return v, i
		}
	}
	return "", -1
}

// FindAll 依次尝试 selectors，返回第一个有匹配的选择结果（容器级别的回退）。
func FindAll(sel *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, s := range selectors {
		if found := sel.Find(s); found.Length() > 0 {
			return found
		}
	}
	return sel.Slice(0, 0)
}

// NormSpace 折叠连续空白并去掉首尾空白。
func NormSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
