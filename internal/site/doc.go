// Package site provides persistence for inspected sites and their ownership.
//
// Only the parts of the site model that authentication depends on live here:
// an entrepreneur principal is loaded together with the sites they own, and
// the sites endpoint lists them.
package site
