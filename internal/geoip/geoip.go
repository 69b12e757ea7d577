// 包 geoip：由客户端 IP 推出距离查询的圆心
// 背景：GeoLite2 City 数据只读取一次，geoip2 负责城市记录解码，maxminddb 提供所在网段作为缓存键
package geoip

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	"geo-index/internal/logger"
)

// ErrNoLocation：数据库中没有该 IP 的坐标
var ErrNoLocation = errors.New("ip has no location")

// Location：IP 所在城市的坐标与精度半径
type Location struct {
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
	AccuracyKm int     `json:"accuracy_km"`
	Country    string  `json:"country,omitempty"`
	City       string  `json:"city,omitempty"`
}

type Resolver struct {
	city  *geoip2.Reader
	raw   *maxminddb.Reader
	cache *LRU[Location]
}

// Open：读取 mmdb 文件并建立网段缓存
func Open(path string, cacheSize int, ttl time.Duration) (*Resolver, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: %w", err)
	}
	city, err := geoip2.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("geoip: open city reader: %w", err)
	}
	raw, err := maxminddb.FromBytes(b)
	if err != nil {
		_ = city.Close()
		return nil, fmt.Errorf("geoip: open raw reader: %w", err)
	}
	logger.L().Info("geoip_open_ok", "path", path, "type", raw.Metadata.DatabaseType, "build_epoch", raw.Metadata.BuildEpoch)
	return &Resolver{city: city, raw: raw, cache: NewLRU[Location](cacheSize, ttl)}, nil
}

func (r *Resolver) Close() error {
	return errors.Join(r.city.Close(), r.raw.Close())
}

// Lookup：先按所在网段查缓存，未命中时解码城市记录
func (r *Resolver) Lookup(ip net.IP) (Location, error) {
	if ip == nil {
		return Location{}, ErrNoLocation
	}
	var probe struct {
		Location struct {
			Latitude *float64 `maxminddb:"latitude"`
		} `maxminddb:"location"`
	}
	network, ok, err := r.raw.LookupNetwork(ip, &probe)
	if err != nil {
		return Location{}, err
	}
	if !ok || probe.Location.Latitude == nil {
		return Location{}, ErrNoLocation
	}
	key := network.String()
	if loc, hit := r.cache.Get(key); hit {
		return loc, nil
	}
	rec, err := r.city.City(ip)
	if err != nil {
		return Location{}, err
	}
	loc := Location{
		Lon:        rec.Location.Longitude,
		Lat:        rec.Location.Latitude,
		AccuracyKm: int(rec.Location.AccuracyRadius),
		Country:    rec.Country.IsoCode,
		City:       rec.City.Names["en"],
	}
	r.cache.Set(key, loc)
	logger.L().Debug("geoip_lookup", "ip", ip.String(), "network", key, "lon", loc.Lon, "lat", loc.Lat)
	return loc, nil
}
