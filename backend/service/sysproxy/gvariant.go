package sysproxy

import "strings"

// gsettings 的值使用 GVariant 文本格式；这里只处理字符串和字符串数组。

func formatGVariantStringList(items []string) string {
	if len(items) == 0 {
		return "@as []"
	}
	quoted := make([]string, 0, len(items))
	for _, it := range items {
		quoted = append(quoted, "'"+escapeGVariantString(it)+"'")
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func escapeGVariantString(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

func unquoteGVariant(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, "\\'", "'")
}

func parseGVariantStringList(s string) []string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "@as"))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := unquoteGVariant(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
