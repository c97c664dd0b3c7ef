package hertzx

import (
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/promptlab/promptlab/models"
)

// QueryInt 获取int参数
func QueryInt(c *app.RequestContext, paramName string) (int, error) {
	pv := c.DefaultQuery(paramName, "")
	var v int
	if pv == "" {
		return v, nil
	}
	return strconv.Atoi(pv)
}

// ParsePageable 解析分页参数
func ParsePageable(c *app.RequestContext) (models.Pageable, error) {
	pageNo, err := QueryInt(c, "pageNo")
	pageable := models.Pageable{}
	if err != nil {
		return pageable, err
	}
	pageSize, err := QueryInt(c, "pageSize")
	if err != nil {
		return pageable, err
	}
	sortField := c.DefaultQuery("sortField", "created_at")
	sortOrder := c.DefaultQuery("sortOrder", "desc")
	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}
	return models.PageRequest(pageNo, pageSize, sortField, sortOrder), nil
}
