package math

// Calc chains fixed-point operations and keeps the first error.
// After an error every further operation returns Zero; check Err once at the end.
type Calc struct {
	err error
}

func (c *Calc) Err() error {
	return c.err
}

func (c *Calc) apply(f func() (I80F48, error)) I80F48 {
	if c.err != nil {
		return Zero
	}
	v, err := f()
	if err != nil {
		c.err = err
		return Zero
	}
	return v
}

func (c *Calc) Add(x, y I80F48) I80F48 { return c.apply(func() (I80F48, error) { return x.Add(y) }) }
func (c *Calc) Sub(x, y I80F48) I80F48 { return c.apply(func() (I80F48, error) { return x.Sub(y) }) }
func (c *Calc) Mul(x, y I80F48) I80F48 { return c.apply(func() (I80F48, error) { return x.Mul(y) }) }
func (c *Calc) Div(x, y I80F48) I80F48 { return c.apply(func() (I80F48, error) { return x.Div(y) }) }
func (c *Calc) Neg(x I80F48) I80F48    { return c.apply(x.Neg) }
func (c *Calc) Abs(x I80F48) I80F48    { return c.apply(x.Abs) }

// Mul3 returns x*y*z evaluated left to right.
func (c *Calc) Mul3(x, y, z I80F48) I80F48 {
	return c.Mul(c.Mul(x, y), z)
}

// Sum adds all values.
func (c *Calc) Sum(values ...I80F48) I80F48 {
	total := Zero
	for _, v := range values {
		total = c.Add(total, v)
	}
	return total
}
