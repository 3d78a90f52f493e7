package search

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// 站点URL的地址编码方式。
const (
	SlugQuery = "query" // quote_plus 编码整条地址
	SlugPath  = "slug"  // 小写, 去逗号, 空格换成 '-'
)

var ErrUnknownSite = errors.New("unknown site")

// SiteProfile 描述一个人员搜索站点: 如何构造URL以及如何解析结果卡片。
type SiteProfile struct {
	Key           string   `yaml:"key"`
	Name          string   `yaml:"name"` // 结果中的 Source
	URLTemplate   string   `yaml:"url_template"`
	SlugStyle     string   `yaml:"slug_style"`
	CardSelectors []string `yaml:"card_selectors"`
	NameHref      string   `yaml:"name_href"`     // 姓名链接 href 的正则
	AddressClass  string   `yaml:"address_class"` // 地址 div class 的正则

	nameRE    *regexp.Regexp
	addressRE *regexp.Regexp
}

// DefaultProfiles 返回内置的两个站点, 按查询顺序排列。
func DefaultProfiles() []*SiteProfile {
	profiles := []*SiteProfile{
		{
			Key:           "truepeoplesearch",
			Name:          "TruePeopleSearch",
			URLTemplate:   "https://www.truepeoplesearch.com/results?streetaddress={address}",
			SlugStyle:     SlugQuery,
			CardSelectors: []string{"div.card", "div.result"},
			NameHref:      "/details",
			AddressClass:  "address",
		},
		{
			Key:           "fastpeoplesearch",
			Name:          "FastPeopleSearch",
			URLTemplate:   "https://www.fastpeoplesearch.com/address/{address}",
			SlugStyle:     SlugPath,
			CardSelectors: []string{"div.card", "div.result"},
			NameHref:      "/person",
			AddressClass:  "address",
		},
	}
	for _, p := range profiles {
		if err := p.compile(); err != nil {
			panic(err)
		}
	}
	return profiles
}

// compile 校验并编译正则, 缺省字段使用默认值。
func (p *SiteProfile) compile() error {
	if p.Key == "" {
		return errors.New("site profile without key")
	}
	if p.Name == "" {
		p.Name = p.Key
	}
	if !strings.Contains(p.URLTemplate, "{address}") {
		return fmt.Errorf("site %s: url_template must contain {address}", p.Key)
	}
	// 空正则会匹配任何链接
	if p.NameHref == "" {
		return fmt.Errorf("site %s: name_href is required", p.Key)
	}
	switch p.SlugStyle {
	case "":
		p.SlugStyle = SlugQuery
	case SlugQuery, SlugPath:
	default:
		return fmt.Errorf("site %s: unknown slug_style %q", p.Key, p.SlugStyle)
	}
	if len(p.CardSelectors) == 0 {
		p.CardSelectors = []string{"div.card", "div.result"}
	}
	if p.AddressClass == "" {
		p.AddressClass = "address"
	}
	var err error
	if p.nameRE, err = regexp.Compile(p.NameHref); err != nil {
		return fmt.Errorf("site %s: name_href: %w", p.Key, err)
	}
	if p.addressRE, err = regexp.Compile(p.AddressClass); err != nil {
		return fmt.Errorf("site %s: address_class: %w", p.Key, err)
	}
	return nil
}

// BuildURL 为地址生成搜索URL。
func (p *SiteProfile) BuildURL(address string) string {
	address = NormalizeAddress(address)
	if p.SlugStyle == SlugPath {
		address = strings.ReplaceAll(strings.ReplaceAll(lowerEnglish(address), ",", ""), " ", "-")
	}
	return strings.Replace(p.URLTemplate, "{address}", url.QueryEscape(address), 1)
}

type profilesFile struct {
	Sites []*SiteProfile `yaml:"sites"`
}

// LoadProfiles 读取 YAML 站点配置。同 key 的条目覆盖内置站点, 新 key 追加在后面。
// path 为空时返回内置站点。
func LoadProfiles(path string) ([]*SiteProfile, error) {
	profiles := DefaultProfiles()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read site profiles: %w", err)
		}
		var f profilesFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse site profiles %s: %w", path, err)
		}
	next:
		for _, sp := range f.Sites {
			if sp == nil {
				continue
			}
			for i, existing := range profiles {
				if existing.Key == sp.Key {
					profiles[i] = sp
					continue next
				}
			}
			profiles = append(profiles, sp)
		}
		for _, p := range profiles {
			if err := p.compile(); err != nil {
				return nil, err
			}
		}
	}
	return profiles, nil
}

// Select 按 keys 的顺序挑选站点。keys 为空时返回全部。
func Select(profiles []*SiteProfile, keys []string) ([]*SiteProfile, error) {
	if len(keys) == 0 {
		return profiles, nil
	}
	out := make([]*SiteProfile, 0, len(keys))
	for _, k := range keys {
		var found *SiteProfile
		for _, p := range profiles {
			if strings.EqualFold(p.Key, k) {
				found = p
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSite, k)
		}
		out = append(out, found)
	}
	return out, nil
}
