package hashid

import (
	"fmt"
	"strings"

	"github.com/flaboy/aira-market/pkg/config"
	hashids "github.com/speps/go-hashids/v2"
)

// Type 一类对外暴露的HashID，prefix用于区分对象类型
type Type struct {
	Prefix    string
	Salt      string
	MinLength int
}

func NewType(prefix, salt string, minLength int) *Type {
	return &Type{Prefix: prefix, Salt: salt, MinLength: minLength}
}

func (t *Type) coder() (*hashids.HashID, error) {
	data := hashids.NewData()
	data.Salt = globalSalt() + ":" + t.Salt
	data.MinLength = t.MinLength
	return hashids.NewWithData(data)
}

func globalSalt() string {
	if config.Config != nil && config.Config.HashidSalt != "" {
		return config.Config.HashidSalt
	}
	return "aira-market"
}

// Encode 编码数据库ID为对外HashID
func Encode(t *Type, id uint) string {
	h, err := t.coder()
	if err != nil {
		return ""
	}
	s, err := h.EncodeInt64([]int64{int64(id)})
	if err != nil {
		return ""
	}
	return t.Prefix + s
}

// Decode 解码HashID获取数据库ID
func Decode(t *Type, hash string) (uint, error) {
	if !strings.HasPrefix(hash, t.Prefix) {
		return 0, fmt.Errorf("invalid hash id: %s", hash)
	}
	h, err := t.coder()
	if err != nil {
		return 0, err
	}
	nums, err := h.DecodeInt64WithError(strings.TrimPrefix(hash, t.Prefix))
	if err != nil {
		return 0, err
	}
	if len(nums) != 1 || nums[0] < 0 {
		return 0, fmt.Errorf("invalid hash id: %s", hash)
	}
	return uint(nums[0]), nil
}
