package storage

// Stats is the summary printed by "db stats".
type Stats struct {
	Items      int
	Searches   int
	Categories []CategoryStats
	Domains    []DomainStats
}

type CategoryStats struct {
	Category string
	Count    int
}

// DomainStats counts catalog media hosted under one registrable domain.
type DomainStats struct {
	Domain string
	Count  int
}
