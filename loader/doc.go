// Package loader resolves module specifiers for vm.Module.Instantiate.
//
// A Loader reads module sources from an fs.FS (NewFS) or an in-memory map
// (NewMap) and hands compiled modules back to the vm through its Load
// method, which has the vm.LoadModuleCallback signature:
//
//	l := loader.NewFS(os.DirFS("app"))
//	defer l.Close()
//	ns, err := l.Run(cs, "main.js")
//
// # Specifiers
//
// Relative specifiers ("./util.js", "../lib/x.js") resolve against the
// path of the importing module. A missing extension tries ".js", ".mjs"
// and "/index.js" in that order. Absolute specifiers resolve from the
// source root.
//
// Bare specifiers name a package under the modules root:
//
//	modules/<name>/<version>/index.js
//
// "name" picks the highest version present; "name@constraint" picks the
// highest version satisfying a semver constraint such as "^1.2" or
// ">= 2, < 3". Directories whose names are not versions are ignored.
//
// # Caching
//
// Each resolved path is compiled once per context and kept as a persisted
// module until Close. A module imported from several places is therefore
// evaluated once.
package loader
