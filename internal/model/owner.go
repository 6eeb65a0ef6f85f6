package model

// Owner is the username every row is scoped to.
type Owner string

func (o Owner) String() string {
	return string(o)
}
