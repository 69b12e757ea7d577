// 包 tile：定点十进制瓦片网格，负责瓦片编号、层级划分与外包矩形计算
package tile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Fixed：按 10^decimals 缩放的定点坐标
// 背景：瓦片边界必须按十进制精确对齐，浮点累加会在深层级产生重复或缺口
type Fixed int64

var errBadFixed = errors.New("bad fixed-point value")

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// ParseFixed：将十进制文本（如 "0.001"、"-12.5"）解析为定点值
// 约束：小数位超过 decimals 且超出部分非零时返回错误，不做舍入
func ParseFixed(s string, decimals int) (Fixed, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errBadFixed
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	ip, fp, _ := strings.Cut(s, ".")
	if ip == "" && fp == "" {
		return 0, errBadFixed
	}
	if ip == "" {
		ip = "0"
	}
	whole, err := strconv.ParseInt(ip, 10, 64)
	if err != nil || whole < 0 {
		return 0, fmt.Errorf("%w: %q", errBadFixed, s)
	}
	if len(fp) > decimals {
		if strings.TrimRight(fp[decimals:], "0") != "" {
			return 0, fmt.Errorf("%w: %q exceeds %d decimals", errBadFixed, s, decimals)
		}
		fp = fp[:decimals]
	}
	var frac int64
	if fp != "" {
		frac, err = strconv.ParseInt(fp, 10, 64)
		if err != nil || frac < 0 {
			return 0, fmt.Errorf("%w: %q", errBadFixed, s)
		}
		frac *= pow10(decimals - len(fp))
	}
	v := whole*pow10(decimals) + frac
	if neg {
		v = -v
	}
	return Fixed(v), nil
}

// Format：带符号的十进制文本，非负值以 "+" 开头，小数位固定为 decimals
func (f Fixed) Format(decimals int) string {
	sign := "+"
	a := int64(f)
	if a < 0 {
		sign = "-"
		a = -a
	}
	if decimals == 0 {
		return sign + strconv.FormatInt(a, 10)
	}
	scale := pow10(decimals)
	return fmt.Sprintf("%s%d.%0*d", sign, a/scale, decimals, a%scale)
}

// Float：转换为度数
func (f Fixed) Float(decimals int) float64 {
	return float64(f) / float64(pow10(decimals))
}
