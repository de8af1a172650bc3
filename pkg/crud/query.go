package crud

import (
	"github.com/flaboy/pin"
	"github.com/spf13/cast"
)

type Pagination struct {
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}

type QueryForm struct {
	Pagination Pagination
}

// Parse 从查询参数解析分页信息
func (f *QueryForm) Parse(c *pin.Context) error {
	f.Pagination.Page = cast.ToInt(c.Query("page"))
	if f.Pagination.Page < 1 {
		f.Pagination.Page = 1
	}
	f.Pagination.Size = cast.ToInt(c.Query("size"))
	if f.Pagination.Size < 1 {
		f.Pagination.Size = 20
	}
	if f.Pagination.Size > 100 {
		f.Pagination.Size = 100
	}
	return nil
}

type QueryResult struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}
