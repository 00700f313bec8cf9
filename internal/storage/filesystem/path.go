package filesystem

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const maxFilenameLength = 200

// 各平台文件名中都不安全的字符
var invalidChars = []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}

// SanitizeFilename 清理文件名，确保跨平台兼容
func SanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if filename == "." || filename == "/" {
		filename = ""
	}

	for _, char := range invalidChars {
		filename = strings.ReplaceAll(filename, char, "_")
	}

	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	filename = limitLength(filename, maxFilenameLength)
	filename = strings.Trim(filename, " .")
	if filename == "" {
		filename = "unnamed"
	}
	return filename
}

// ValidatePath 验证路径是否安全
func ValidatePath(path string) error {
	if len(path) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}
	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}
	return nil
}

// safeExt 取出可安全用作存储文件后缀的扩展名
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(SanitizeFilename(name)))
	if len(ext) > 16 {
		return ""
	}
	for _, r := range strings.TrimPrefix(ext, ".") {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return ""
		}
	}
	return ext
}

// limitLength 截断过长的文件名，保留扩展名
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	ext := filepath.Ext(s)
	available := maxLen - len(ext)
	if available <= 0 {
		return s[:maxLen]
	}
	return strings.TrimSuffix(s, ext)[:available] + ext
}
