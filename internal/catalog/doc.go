// Package catalog declares which document conversions the bot offers.
//
// # Overview
//
// A Catalog maps a directional (source, target) pair of formats to the
// backend capability that performs it. It is built once at startup and is
// read-only afterwards, so it can be shared between goroutines freely.
//
//	cat := catalog.Default()
//	capability, ok := cat.Lookup("docx", "pdf")
//
// # Formats
//
// A Format is the lowercased extension after the last '.' of a filename:
//
//	catalog.FormatFromFilename("Report.DOCX") // "docx"
//	catalog.FormatFromFilename("README")      // ""
//
// # Menu Order
//
// SupportedTargets returns targets in declaration order. The order is shown
// to users as the button menu, so it is stable across runs.
package catalog
