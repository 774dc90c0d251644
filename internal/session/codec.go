// Package session 实现了文档聊天的会话协议层：
// 每条连接一个状态机，串行处理入站帧与异步续延，
// 并负责线上 camelCase 与内部 snake_case 表示之间的转换。
package session

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Encode 将内部 snake_case 键的帧编码为线上 camelCase JSON。
func Encode(frame map[string]interface{}) ([]byte, error) {
	camelized, _ := transformKeys(frame, snakeToCamel).(map[string]interface{})
	return json.Marshal(camelized)
}

// Decode 解析线上 JSON 并把键递归转换为内部 snake_case 表示。
// 解析失败或顶层不是对象时返回错误，由调用方转换为协议级错误帧。
func Decode(data []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	snaked, _ := transformKeys(raw, camelToSnake).(map[string]interface{})
	return snaked, nil
}

// transformKeys 对嵌套的 map 和 slice 递归应用键变换；标量原样通过。
func transformKeys(v interface{}, f func(string) string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[f(k)] = transformKeys(inner, f)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = transformKeys(inner, f)
		}
		return out
	default:
		return v
	}
}

// snakeToCamel 将 snake_case 键转换为 camelCase："document_ids" -> "documentIds"。
func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// camelToSnake 将 camelCase 键转换为 snake_case："documentIds" -> "document_ids"。
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
