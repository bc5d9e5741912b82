package internal

// PageRequest carries the common list parameters (page, page_size, keyword).
type PageRequest struct {
	Page     int
	PageSize int
	Keyword  string
}

func (p PageRequest) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

func (p PageRequest) Limit() int {
	if p.PageSize <= 0 {
		return 20
	}
	return p.PageSize
}
