package main

import (
	"strings"

	"gorm.io/gorm"

	"github.com/chainbill/invoicenode/pkg/rpc"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

func applySort(db *gorm.DB, sortBy string, defaultSort rpc.SortType, sortType *rpc.SortType) *gorm.DB {
	sort := defaultSort
	if sortType != nil && (*sortType == rpc.SortTypeAscending || *sortType == rpc.SortTypeDescending) {
		sort = *sortType
	}
	return db.Order(sortBy + " " + strings.ToUpper(sort.ToString()))
}

func paginate(rawOffset, rawLimit *uint32) func(db *gorm.DB) *gorm.DB {
	offset := 0
	if rawOffset != nil {
		offset = int(*rawOffset)
	}

	limit := DefaultLimit
	if rawLimit != nil {
		limit = int(*rawLimit)
	}
	if limit == 0 {
		limit = DefaultLimit
	} else if limit > MaxLimit {
		limit = MaxLimit
	}

	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(offset).Limit(limit)
	}
}

func applyListOptions(db *gorm.DB, sortBy string, defaultSort rpc.SortType, options *rpc.ListOptions) *gorm.DB {
	if options == nil {
		return paginate(nil, nil)(applySort(db, sortBy, defaultSort, nil))
	}

	db = applySort(db, sortBy, defaultSort, options.Sort)
	return paginate(&options.Offset, &options.Limit)(db)
}

// pageIDs applies offset and limit of options to an in-memory list.
func pageIDs(ids []uint64, options rpc.ListOptions) []uint64 {
	if options.Sort != nil && *options.Sort == rpc.SortTypeDescending {
		reversed := make([]uint64, len(ids))
		for i, id := range ids {
			reversed[len(ids)-1-i] = id
		}
		ids = reversed
	}

	offset := int(options.Offset)
	if offset >= len(ids) {
		return []uint64{}
	}

	limit := int(options.Limit)
	if limit == 0 {
		limit = DefaultLimit
	} else if limit > MaxLimit {
		limit = MaxLimit
	}

	end := min(offset+limit, len(ids))
	return ids[offset:end]
}
