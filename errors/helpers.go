package errors

// WrapOpComponentKind tags err with op, component and kind. A nil err stays nil.
func WrapOpComponentKind(err error, op, component string, kind Kind) error {
	if err == nil {
		return nil
	}
	return E(Op(op), Component(component), kind, err)
}
