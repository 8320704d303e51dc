package main

import (
	"github.com/andreyvit/sheraf"
)

var (
	horses = sheraf.NewModel("horse", func(b *sheraf.ModelBuilder) {
		b.Attr("name", sheraf.StringAttribute().Index(sheraf.Unique(), sheraf.NullOK(false)))
		b.Attr("breed", sheraf.StringAttribute().Index())
		b.Attr("riders", sheraf.ReverseModelAttribute("cowboy", "horse"))
	})

	cowboys = sheraf.NewModel("cowboy", func(b *sheraf.ModelBuilder) {
		b.Attr("name", sheraf.StringAttribute())
		b.Attr("email", sheraf.StringAttribute().Index(sheraf.Unique(), sheraf.NullOK(false)))
		b.Attr("age", sheraf.IntegerAttribute().Index())
		b.Attr("gold", sheraf.CounterAttribute())
		b.Attr("horse", sheraf.ModelAttribute("horse").Index())
		b.Attr("skills", sheraf.SetAttribute(sheraf.StringAttribute()).Index(sheraf.Key("skill")))
	})
)
