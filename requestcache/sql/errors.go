package sql

type errNotFound struct {
	error
}

func (*errNotFound) NotFoundErr() {}
