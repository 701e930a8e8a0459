// Package policy screens submissions for capabilities the headless sandbox
// cannot provide, such as browser automation or GUI toolkits.
//
// The screen is a cheap textual reject path that runs before any sandbox is
// allocated. It is a usability filter, not a security boundary: it matches
// case-insensitively but does not detect obfuscated or transitively pulled-in
// dependencies.
package policy
