package db

type CheckEntry struct {
	ID        int64
	RunID     string
	UserID    string
	Status    string
	Link      string
	Filename  string
	Size      int64
	Delivered bool
	Error     string
	CheckedAt int64
}
