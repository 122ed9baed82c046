package common

// PackageName identifies this project in logs and generated file headers.
const PackageName = "whisker-provisioner"

// Version is set at build time via -ldflags.
var Version = "dev"
