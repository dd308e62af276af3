package music

import (
	"fmt"
	"strings"

	"nox-backend/pkg/lrclib"
	"nox-backend/pkg/netease"
	"nox-backend/pkg/qqmusic"
)

// Endpoints 可配置的提供商地址，为空时使用各自默认值
type Endpoints struct {
	QQSearchURL string
	QQLyricURL  string
	LRCLibURL   string
}

// DefaultProviders 默认优先级
var DefaultProviders = []Provider{ProviderNetEase, ProviderLRCLib, ProviderQQMusic}

// CreateProvider 创建音乐提供商客户端
func CreateProvider(provider Provider, ep Endpoints) (MusicAPI, error) {
	switch provider {
	case ProviderNetEase:
		logger().Info().Msg("Creating NetEase music client")
		return netease.NewClient(), nil
	case ProviderQQMusic:
		logger().Info().Msg("Creating QQ Music client")
		return qqmusic.NewClient(qqmusic.WithSearchURL(ep.QQSearchURL), qqmusic.WithLyricURL(ep.QQLyricURL)), nil
	case ProviderLRCLib:
		logger().Info().Msg("Creating LRCLib client")
		return lrclib.NewClient(ep.LRCLibURL), nil
	default:
		return nil, fmt.Errorf("unknown music provider: %s", provider)
	}
}

// CreateManager 按名称顺序创建管理器，names 为空时使用默认优先级
func CreateManager(names []string, ep Endpoints) (*Manager, error) {
	providerTypes := DefaultProviders
	if len(names) > 0 {
		providerTypes = nil
		for _, name := range names {
			p, err := GetProviderByName(name)
			if err != nil {
				logger().Warn().Err(err).Msg("Skipping unknown provider")
				continue
			}
			providerTypes = append(providerTypes, p)
		}
	}

	var providers []MusicAPI
	for _, providerType := range providerTypes {
		provider, err := CreateProvider(providerType, ep)
		if err != nil {
			logger().Warn().Err(err).Str("provider", string(providerType)).Msg("Failed to create provider")
			continue
		}
		providers = append(providers, provider)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no music providers available")
	}

	return NewManager(providers), nil
}

// GetAvailableProviders 获取所有可用的提供商
func GetAvailableProviders() []Provider {
	return []Provider{ProviderNetEase, ProviderLRCLib, ProviderQQMusic}
}

// GetProviderByName 根据名称获取提供商
func GetProviderByName(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "netease", "网易云", "163":
		return ProviderNetEase, nil
	case "qqmusic", "qq", "腾讯":
		return ProviderQQMusic, nil
	case "lrclib", "lrc":
		return ProviderLRCLib, nil
	default:
		return "", fmt.Errorf("unknown provider name: %s (available: %v)", name, GetAvailableProviders())
	}
}
