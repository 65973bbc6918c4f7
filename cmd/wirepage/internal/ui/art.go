package ui

// Banner heads the build dashboard
const Banner = `╦ ╦┬┬─┐┌─┐┌─┐┌─┐┌─┐┌─┐
║║║│├┬┘├┤ ├─┘├─┤│ ┬├┤
╚╩╝┴┴└─└─┘┴  ┴ ┴└─┘└─┘`
