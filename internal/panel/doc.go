// Package panel serves the console's browser UI.
//
// The UI is a single page application built outside this repository and
// deployed as a directory of static files. Handler serves that directory
// with SPA fallback routing: a path naming no file gets index.html, so
// client-side routes such as /devices/lamp-1 survive a reload.
//
// index.html is sent with no-cache so a redeployed UI is picked up at
// once; bundlers content-hash the other assets.
package panel
