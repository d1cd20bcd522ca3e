// Package redirect computes the single destination path a caller should be
// sent to after identity state is known. The resolver is pure given its
// inputs and the current rule set; destinations and blocked prefixes are
// data, loadable from a YAML file with hot reload.
package redirect
