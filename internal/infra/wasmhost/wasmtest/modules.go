// Package wasmtest builds tiny WebAssembly target programs for tests.
package wasmtest

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// BalanceModule returns a program whose zerolock_balance always reports n.
func BalanceModule(n int64) []byte {
	body := appendSLEB([]byte{0x00, 0x42}, n) // no locals; i64.const n
	body = append(body, 0x0b)

	m := append([]byte{}, header...)
	m = section(m, 1, []byte{0x01, 0x60, 0x00, 0x01, 0x7e})
	m = section(m, 3, []byte{0x01, 0x00})
	m = section(m, 7, exports(export{"zerolock_balance", 0}))
	m = section(m, 10, code(body))
	return m
}

// DrainableModule returns a program holding n in a mutable global.
// zerolock_drain(amount i64) subtracts amount from it, which is the
// exploit a test hacker performs.
func DrainableModule(n int64) []byte {
	global := appendSLEB([]byte{0x01, 0x7e, 0x01, 0x42}, n) // one mutable i64 = n
	global = append(global, 0x0b)

	m := append([]byte{}, header...)
	m = section(m, 1, []byte{0x02, 0x60, 0x00, 0x01, 0x7e, 0x60, 0x01, 0x7e, 0x00})
	m = section(m, 3, []byte{0x02, 0x00, 0x01})
	m = section(m, 6, global)
	m = section(m, 7, exports(export{"zerolock_balance", 0}, export{"zerolock_drain", 1}))
	m = section(m, 10, code(
		[]byte{0x00, 0x23, 0x00, 0x0b},                               // global.get 0
		[]byte{0x00, 0x23, 0x00, 0x20, 0x00, 0x7d, 0x24, 0x00, 0x0b}, // global 0 -= local 0
	))
	return m
}

// UnrulyModule is DrainableModule plus two exports that fail: zerolock_spin
// loops forever and zerolock_drain_and_trap(amount i64) drains then traps.
func UnrulyModule(n int64) []byte {
	global := appendSLEB([]byte{0x01, 0x7e, 0x01, 0x42}, n)
	global = append(global, 0x0b)

	m := append([]byte{}, header...)
	m = section(m, 1, []byte{0x03, 0x60, 0x00, 0x01, 0x7e, 0x60, 0x01, 0x7e, 0x00, 0x60, 0x00, 0x00})
	m = section(m, 3, []byte{0x04, 0x00, 0x01, 0x02, 0x01})
	m = section(m, 6, global)
	m = section(m, 7, exports(
		export{"zerolock_balance", 0},
		export{"zerolock_drain", 1},
		export{"zerolock_spin", 2},
		export{"zerolock_drain_and_trap", 3},
	))
	m = section(m, 10, code(
		[]byte{0x00, 0x23, 0x00, 0x0b},
		[]byte{0x00, 0x23, 0x00, 0x20, 0x00, 0x7d, 0x24, 0x00, 0x0b},
		[]byte{0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b},                   // loop br 0 end
		[]byte{0x00, 0x23, 0x00, 0x20, 0x00, 0x7d, 0x24, 0x00, 0x00, 0x0b}, // drain, unreachable
	))
	return m
}

// NoBalanceModule returns a valid program that lacks the balance export.
func NoBalanceModule() []byte {
	m := append([]byte{}, header...)
	m = section(m, 1, []byte{0x01, 0x60, 0x00, 0x01, 0x7e})
	m = section(m, 3, []byte{0x01, 0x00})
	m = section(m, 7, exports(export{"something_else", 0}))
	m = section(m, 10, code([]byte{0x00, 0x42, 0x01, 0x0b}))
	return m
}

type export struct {
	name string
	fn   uint64
}

func exports(es ...export) []byte {
	b := appendULEB(nil, uint64(len(es)))
	for _, e := range es {
		b = appendULEB(b, uint64(len(e.name)))
		b = append(b, e.name...)
		b = append(b, 0x00) // func
		b = appendULEB(b, e.fn)
	}
	return b
}

func code(bodies ...[]byte) []byte {
	b := appendULEB(nil, uint64(len(bodies)))
	for _, body := range bodies {
		b = appendULEB(b, uint64(len(body)))
		b = append(b, body...)
	}
	return b
}

func section(m []byte, id byte, content []byte) []byte {
	m = append(m, id)
	m = appendULEB(m, uint64(len(content)))
	return append(m, content...)
}

func appendULEB(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func appendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
