package contract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Windows路径", "C:\\cards\\lirya-common-cards.json", "C:/cards/lirya-common-cards.json"},
		{"清理多余斜杠", "cards//json///rare.json", "cards/json/rare.json"},
		{"处理父目录", "cards/json/../yaml/rare.yaml", "cards/yaml/rare.yaml"},
		{"空串", "", "."},
		{"中文路径", "卡牌\\数据/普通.json", "卡牌/数据/普通.json"},
		{"空格路径", "generazione carte\\json\\a.json", "generazione carte/json/a.json"},
		{"复杂父目录", "a\\b\\..\\..\\..\\d", "../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(NormalizeFileID(tt.input)))
		})
	}
}

func TestFileIDExtBase(t *testing.T) {
	id := NormalizeFileID("dir\\Lirya-Rare.JSON")
	assert.Equal(t, ".json", id.Ext())
	assert.Equal(t, "Lirya-Rare.JSON", id.Base())
	assert.Equal(t, "", FileID("noext").Ext())
}

func TestRecordGetSet(t *testing.T) {
	r := NewRecord(Field{"id", Number("1")}, Field{"name", "Guardia"}, Field{"img", "1_guardia.png"})

	v, ok := r.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Guardia", v)

	// 已存在的键原位替换，顺序不变
	r.Set("id", NumberOf(5))
	r.Set("rarity", "common")
	keys := make([]string, 0, r.Len())
	for _, f := range r.Fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"id", "name", "img", "rarity"}, keys)
	v, _ = r.Get("id")
	assert.Equal(t, Number("5"), v)

	_, ok = (*Record)(nil).Get("id")
	assert.False(t, ok)
	assert.Equal(t, 0, (*Record)(nil).Len())
}

func TestNumberInt64(t *testing.T) {
	n, err := Number("42").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	_, err = Number("4.5").Int64()
	assert.Error(t, err)
}

func TestDetectWrapped(t *testing.T) {
	root := NewRecord(
		Field{"common_cards", []any{NewRecord(Field{"id", Number("1")})}},
		Field{"version", Number("2")},
	)
	c, err := Detect(root, []string{"cards", "common_cards"})
	require.NoError(t, err)
	assert.Equal(t, Shape{Kind: Wrapped, Key: "common_cards"}, c.Shape)
	require.Len(t, c.Records, 1)

	// 还原仅保留包裹键
	out, ok := c.Value().(*Record)
	require.True(t, ok)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "common_cards", out.Fields[0].Key)
}

func TestDetectBare(t *testing.T) {
	c, err := Detect([]any{NewRecord(), NewRecord()}, []string{"common_cards"})
	require.NoError(t, err)
	assert.Equal(t, Bare, c.Shape.Kind)
	seq, ok := c.Value().([]any)
	require.True(t, ok)
	assert.Len(t, seq, 2)
}

func TestDetectSchemaErrors(t *testing.T) {
	cases := map[string]any{
		"标量顶层":    "x",
		"无包裹键映射":  NewRecord(Field{"other", []any{}}),
		"包裹键非序列":  NewRecord(Field{"common_cards", "x"}),
		"元素非映射":   []any{NewRecord(), Number("3")},
		"nil 记录元素": []any{(*Record)(nil)},
	}
	for name, root := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Detect(root, []string{"common_cards"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSchema), "got %v", err)
		})
	}
}

func TestShapeKindString(t *testing.T) {
	assert.Equal(t, "bare", Bare.String())
	assert.Equal(t, "wrapped", Wrapped.String())
}
