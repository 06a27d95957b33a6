package handlers

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
)

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// limitParam reads ?limit=, falling back to def and capping at max.
func limitParam(c *gin.Context, def, max int) int {
	n := queryInt(c, "limit", def)
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// pageParams reads ?page= and ?page_size=.
func pageParams(c *gin.Context) (page, pageSize int) {
	page = queryInt(c, "page", 1)
	pageSize = queryInt(c, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// bindOptionalJSON binds the body into v, treating an empty body as {}.
func bindOptionalJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
