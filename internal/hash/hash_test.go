package hash

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillHash_Deterministic(t *testing.T) {
	doc := map[string]any{
		"recipient": "Acme Corp",
		"amount":    1250.50,
		"items": []any{
			map[string]any{"name": "widget", "qty": 3},
			map[string]any{"name": "gadget", "qty": 1},
		},
	}

	h1, err := BillHash(doc)
	require.NoError(t, err)
	h2, err := BillHash(doc)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // SHA-256 hex
}

func TestBillHash_KeyOrderIndependent(t *testing.T) {
	// 同样的内容，不同的字面 key 顺序（包括嵌套在数组里的 map）
	a := map[string]any{
		"amount":   100.0,
		"currency": "INR",
		"lines": []any{
			map[string]any{"desc": "consulting", "price": 100.0},
		},
	}
	b := map[string]any{
		"lines": []any{
			map[string]any{"price": 100.0, "desc": "consulting"},
		},
		"currency": "INR",
		"amount":   100.0,
	}

	ha, err := BillHash(a)
	require.NoError(t, err)
	hb, err := BillHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestBillHash_ArrayOrderMatters(t *testing.T) {
	a := map[string]any{"tags": []any{"x", "y"}}
	b := map[string]any{"tags": []any{"y", "x"}}

	ha, err := BillHash(a)
	require.NoError(t, err)
	hb, err := BillHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestBillHash_LeafChangeChangesDigest(t *testing.T) {
	base := map[string]any{
		"recipient": "Acme Corp",
		"amount":    999.99,
		"meta":      map[string]any{"gstin": "29ABCDE1234F1Z5"},
	}
	changed := map[string]any{
		"recipient": "Acme Corp",
		"amount":    999.98,
		"meta":      map[string]any{"gstin": "29ABCDE1234F1Z5"},
	}

	hBase, err := BillHash(base)
	require.NoError(t, err)
	hChanged, err := BillHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, hBase, hChanged)
}

func TestBillHash_EncodingError(t *testing.T) {
	doc := map[string]any{"bad": make(chan int)}
	_, err := BillHash(doc)
	assert.Error(t, err)
}

func TestVerifyBillHash(t *testing.T) {
	doc := map[string]any{"amount": 500.0, "type": "rent_receipt"}

	h, err := BillHash(doc)
	require.NoError(t, err)

	ok, err := VerifyBillHash(doc, h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyBillHash(doc, "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestBillHash_Randomized 随机文档：打乱 key 顺序不变指纹，改一个叶子必变
func TestBillHash_Randomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 120; i++ {
		doc, permuted, leafKey := randomDocPair(rng, 3)

		h1, err := BillHash(doc)
		require.NoError(t, err)
		h2, err := BillHash(permuted)
		require.NoError(t, err)
		assert.Equal(t, h1, h2, "permuted doc %d must hash identically", i)

		// 改一个叶子
		mutated := clone(doc)
		mutated[leafKey] = "mutated-value"
		h3, err := BillHash(mutated)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h3, "mutated doc %d must hash differently", i)
	}
}

// randomDocPair 生成一个随机文档和它的 key 乱序副本，并返回一个顶层叶子 key
func randomDocPair(rng *rand.Rand, depth int) (map[string]any, map[string]any, string) {
	n := 3 + rng.Intn(5)
	doc := make(map[string]any, n)
	var leafKey string

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%02d_%d", i, rng.Intn(1000))
		switch rng.Intn(4) {
		case 0:
			doc[key] = rng.Float64() * 10000
		case 1:
			doc[key] = fmt.Sprintf("val-%d", rng.Intn(100000))
		case 2:
			doc[key] = []any{rng.Intn(100), fmt.Sprintf("s%d", rng.Intn(100))}
		default:
			if depth > 0 {
				nested, _, _ := randomDocPair(rng, depth-1)
				doc[key] = nested
			} else {
				doc[key] = rng.Intn(100) == 0
			}
		}
		if leafKey == "" {
			leafKey = key
		}
	}

	// Go map 遍历顺序本身随机，这里再显式构造一个插入顺序不同的副本
	permuted := make(map[string]any, n)
	keys := make([]string, 0, n)
	for k := range doc {
		keys = append(keys, k)
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, k := range keys {
		permuted[k] = doc[k]
	}

	return doc, permuted, leafKey
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
