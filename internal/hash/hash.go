package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// BillHash 计算票据内容的规范化 SHA-256 指纹
// 递归按 key 字典序重排所有 map（数组保序、标量原样），再 JSON 序列化后取摘要。
// 同一棵无序 key 树无论原始 key 顺序如何，指纹一致；任意叶子变化指纹必变。
func BillHash(data map[string]any) (string, error) {
	canonical := canonicalize(data)

	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to encode bill data: %w", err)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyBillHash 重算指纹并比对
func VerifyBillHash(data map[string]any, expected string) (bool, error) {
	actual, err := BillHash(data)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

// canonicalize 递归按 key 排序
// encoding/json 对 map 本身就按 key 排序输出，但嵌套在 []any 里的 map 仍需统一处理，
// 这里显式规范化整棵树，不依赖序列化器的实现细节。
func canonicalize(data any) any {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(v))
		for _, k := range keys {
			out[k] = canonicalize(v[k])
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = canonicalize(item)
		}
		return out

	default:
		return v
	}
}
