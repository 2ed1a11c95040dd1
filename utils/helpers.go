package utils

// SafeSuffix 返回字符串末尾几位并加上 "..." 前缀，用于在日志和 API 响应中
// 标识密钥而不暴露完整内容。输入为空时返回 "[EMPTY]"。
func SafeSuffix(s string) string {
	const suffixLength = 4
	if len(s) == 0 {
		return "[EMPTY]"
	}
	if len(s) > suffixLength {
		return "..." + s[len(s)-suffixLength:]
	}
	// 短字符串同样使用 "...s" 的形式，保持显示格式一致。
	return "..." + s
}

// DerefString 安全地解引用字符串指针，指针为 nil 时返回默认值。
// 用于处理 JSON 请求中可选的字符串字段。
func DerefString(s *string, def string) string {
	if s != nil {
		return *s
	}
	return def
}

// DerefInt 安全地解引用整型指针，指针为 nil 时返回默认值。
func DerefInt(i *int, def int) int {
	if i != nil {
		return *i
	}
	return def
}
