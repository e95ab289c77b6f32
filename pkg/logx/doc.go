// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so components take a small Logger value instead of a concrete
// zerolog.Logger, and so sinks (console, file, operator chat mirror) can be
// swapped at runtime via Service.Apply without re-plumbing loggers.
//
// The zero Logger is a safe no-op, which keeps constructors usable in tests.
package logx
