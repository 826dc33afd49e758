package repository

import (
	"strconv"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"

	"github.com/noah-isme/gema-inbox/internal/models"
)

const defaultPageSize = 50

// project copies portal wire records into models field by field.
func project[M any, R any](records []R) ([]M, error) {
	out := make([]M, len(records))
	for i := range records {
		if err := copier.Copy(&out[i], &records[i]); err != nil {
			return nil, errors.Wrap(err, "project portal record")
		}
	}
	return out, nil
}

func userQuery(user models.UserRef) map[string]string {
	return map[string]string{
		"userId":   user.ID.String(),
		"userType": string(user.Type),
	}
}

func pageQuery(query map[string]string, page, size int) map[string]string {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = defaultPageSize
	}
	query["pageNum"] = strconv.Itoa(page)
	query["pageSize"] = strconv.Itoa(size)
	return query
}
