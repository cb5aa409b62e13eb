package specification

import "gorm.io/gorm"

type ByConceptDepth struct {
	Depth int
}

func (s ByConceptDepth) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("depth = ?", s.Depth)
}
