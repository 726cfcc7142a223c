// Package settings defines the immutable settings tree shared by every
// layer of the cluster config client, along with case-insensitive paths
// into it and the deep merge used to overlay local files on top of the
// remote zone.
//
// A tree is built from three node kinds:
//
//   - object nodes, whose children are addressed by name ignoring case
//   - array nodes, whose children are addressed by index
//   - value nodes, which hold a single string
//
// A nil *Node stands for "no settings" and is accepted everywhere a node is.
package settings
