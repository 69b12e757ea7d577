package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// 字段类型名，出现在错误信息中
const (
	typeInt    = "int"
	typeDouble = "double"
	typeString = "string"
	typeList   = "arraylist"
)

// maxBody：请求体上限
const maxBody = 8 << 20

// ValidationError：参数缺失或类型不符
type ValidationError struct {
	Field string
	Type  string
}

func (e *ValidationError) Error() string { return e.Field + " must be of type " + e.Type }

// field：按顺序校验的字段定义
type field struct {
	name string
	typ  string
}

// params：校验通过后的参数值
type params map[string]any

func (p params) int(name string) int64      { return p[name].(int64) }
func (p params) double(name string) float64 { return p[name].(float64) }
func (p params) str(name string) string     { return p[name].(string) }
func (p params) list(name string) []string  { return p[name].([]string) }

// decodeBody：以 UseNumber 解码 JSON 对象，保留整数与小数的区别
func decodeBody(r io.Reader) (map[string]any, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBody))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid json body: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("invalid json body: not an object")
	}
	return m, nil
}

// extractParams：逐个字段取值并校验类型；第一个不合法的字段作为错误返回
// 约束：int 须为整数字面量；double 接受整数与小数；arraylist 元素须为字符串
func extractParams(fields []field, body map[string]any) (params, error) {
	out := make(params, len(fields))
	for _, f := range fields {
		v, ok := body[f.name]
		if !ok || v == nil {
			return nil, &ValidationError{Field: f.name, Type: f.typ}
		}
		var val any
		switch f.typ {
		case typeInt:
			n, ok := v.(json.Number)
			if !ok {
				return nil, &ValidationError{Field: f.name, Type: f.typ}
			}
			i, err := n.Int64()
			if err != nil || i > math.MaxInt32 || i < math.MinInt32 {
				return nil, &ValidationError{Field: f.name, Type: f.typ}
			}
			val = i
		case typeDouble:
			n, ok := v.(json.Number)
			if !ok {
				return nil, &ValidationError{Field: f.name, Type: f.typ}
			}
			x, err := n.Float64()
			if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, &ValidationError{Field: f.name, Type: f.typ}
			}
			val = x
		case typeString:
			s, ok := v.(string)
			if !ok {
				return nil, &ValidationError{Field: f.name, Type: f.typ}
			}
			val = s
		case typeList:
			items, ok := v.([]any)
			if !ok {
				return nil, &ValidationError{Field: f.name, Type: f.typ}
			}
			list := make([]string, 0, len(items))
			for _, it := range items {
				s, ok := it.(string)
				if !ok {
					return nil, &ValidationError{Field: f.name, Type: f.typ}
				}
				list = append(list, s)
			}
			val = list
		default:
			return nil, fmt.Errorf("unknown type %s", f.typ)
		}
		out[f.name] = val
	}
	return out, nil
}
