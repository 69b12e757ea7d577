package tile

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/paulmach/orb"
)

// Options：网格参数，尺寸以十进制文本给出，避免配置层引入浮点误差
type Options struct {
	Decimals int    `yaml:"decimals"`
	TopSize  string `yaml:"top_size"`
	Factor   int    `yaml:"factor"`
	MinSize  string `yaml:"min_size"`
}

// DefaultOptions：3 位小数、顶层 10°、逐级十分、0.001° 为终止阈值
func DefaultOptions() Options {
	return Options{Decimals: 3, TopSize: "10", Factor: 10, MinSize: "0.001"}
}

// Grid：覆盖经度 [-180,180)、纬度 [-90,90) 的分层网格
type Grid struct {
	decimals int
	top      Fixed
	factor   int64
	min      Fixed
	lonMin   Fixed
	lonMax   Fixed
	latMin   Fixed
	latMax   Fixed
}

// Tile：网格中的一个方形瓦片
// Path 为自顶层起到自身的瓦片编号序列，Level 自 1 起计
type Tile struct {
	Lon   Fixed
	Lat   Fixed
	Size  Fixed
	Level int
	Path  []string
	dec   int
}

var ErrBadGrid = errors.New("invalid grid options")

// NewGrid：校验参数并构建网格
// 约束：顶层尺寸需整除经纬度范围；终止阈值需由顶层尺寸按 Factor 的整数次幂缩小得到
func NewGrid(o Options) (*Grid, error) {
	if o.Decimals < 0 || o.Decimals > 9 {
		return nil, fmt.Errorf("%w: decimals %d out of range", ErrBadGrid, o.Decimals)
	}
	if o.Factor < 2 {
		return nil, fmt.Errorf("%w: factor %d", ErrBadGrid, o.Factor)
	}
	top, err := ParseFixed(o.TopSize, o.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: top size: %w", ErrBadGrid, err)
	}
	minSize, err := ParseFixed(o.MinSize, o.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: min size: %w", ErrBadGrid, err)
	}
	if top <= 0 || minSize <= 0 || minSize > top {
		return nil, fmt.Errorf("%w: sizes top=%s min=%s", ErrBadGrid, o.TopSize, o.MinSize)
	}
	scale := Fixed(pow10(o.Decimals))
	if (360*scale)%top != 0 || (180*scale)%top != 0 {
		return nil, fmt.Errorf("%w: top size %s does not divide the globe", ErrBadGrid, o.TopSize)
	}
	s := top
	for s > minSize {
		if s%Fixed(o.Factor) != 0 {
			return nil, fmt.Errorf("%w: min size %s unreachable from %s", ErrBadGrid, o.MinSize, o.TopSize)
		}
		s /= Fixed(o.Factor)
	}
	if s != minSize {
		return nil, fmt.Errorf("%w: min size %s unreachable from %s", ErrBadGrid, o.MinSize, o.TopSize)
	}
	return &Grid{
		decimals: o.Decimals,
		top:      top,
		factor:   int64(o.Factor),
		min:      minSize,
		lonMin:   -180 * scale,
		lonMax:   180 * scale,
		latMin:   -90 * scale,
		latMax:   90 * scale,
	}, nil
}

// MustGrid：用于默认参数与测试
func MustGrid(o Options) *Grid {
	g, err := NewGrid(o)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Grid) Decimals() int { return g.decimals }

// TopLevel：按经度外层、纬度内层的顺序枚举顶层瓦片
func (g *Grid) TopLevel() iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		for lon := g.lonMin; lon < g.lonMax; lon += g.top {
			for lat := g.latMin; lat < g.latMax; lat += g.top {
				t := g.make(lon, lat, g.top, nil)
				if !yield(t) {
					return
				}
			}
		}
	}
}

// Children：将瓦片等分为 Factor×Factor 个子瓦片；终止瓦片没有子瓦片
func (g *Grid) Children(t Tile) iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		if g.Terminal(t) {
			return
		}
		size := t.Size / Fixed(g.factor)
		for lon := t.Lon; lon < t.Lon+t.Size; lon += size {
			for lat := t.Lat; lat < t.Lat+t.Size; lat += size {
				if !yield(g.make(lon, lat, size, t.Path)) {
					return
				}
			}
		}
	}
}

// Terminal：尺寸不大于阈值的瓦片不再细分
func (g *Grid) Terminal(t Tile) bool { return t.Size <= g.min }

// Lineage：由瓦片原点按各层尺寸向下取整重建祖先链，顶层在前、自身在后
// 背景：写入链接边时需要每一层的外包矩形，重建结果与逐层细分得到的编号完全一致
func (g *Grid) Lineage(t Tile) []Tile {
	out := make([]Tile, 0, t.Level)
	var path []string
	size := g.top
	for level := 1; level <= t.Level; level++ {
		lon := g.lonMin + (t.Lon-g.lonMin)/size*size
		lat := g.latMin + (t.Lat-g.latMin)/size*size
		a := g.make(lon, lat, size, path)
		out = append(out, a)
		path = a.Path
		size /= Fixed(g.factor)
	}
	return out
}

func (g *Grid) make(lon, lat, size Fixed, parent []string) Tile {
	t := Tile{Lon: lon, Lat: lat, Size: size, Level: len(parent) + 1, dec: g.decimals}
	path := make([]string, len(parent), len(parent)+1)
	copy(path, parent)
	t.Path = append(path, t.ID())
	return t
}

// ID：瓦片编号，形如 "+10.000,-20.500"
func (t Tile) ID() string { return t.Lon.Format(t.dec) + "," + t.Lat.Format(t.dec) }

// Key：路径编号以 ":" 连接，全局唯一
func (t Tile) Key() string { return strings.Join(t.Path, ":") }

// Bound：闭区间外包矩形
func (t Tile) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{t.Lon.Float(t.dec), t.Lat.Float(t.dec)},
		Max: orb.Point{(t.Lon + t.Size).Float(t.dec), (t.Lat + t.Size).Float(t.dec)},
	}
}

// Polygon：逆时针闭合的矩形多边形
func (t Tile) Polygon() orb.Polygon { return t.Bound().ToPolygon() }

// PrefixKeys：由瓦片键推出自身及全部祖先的键（不含根），顶层在前
func PrefixKeys(key string) []string {
	if key == "" {
		return nil
	}
	parts := strings.Split(key, ":")
	out := make([]string, len(parts))
	for i := range parts {
		out[i] = strings.Join(parts[:i+1], ":")
	}
	return out
}
